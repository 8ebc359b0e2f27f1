package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"sermonpipe/internal/services"
)

// Payload is the job description delivered by the dispatcher.
type Payload struct {
	ID              string  `json:"id" validate:"required,max=256"`
	StartTime       float64 `json:"startTime" validate:"gte=0"`
	Duration        float64 `json:"duration" validate:"gt=0"`
	IntroURL        string  `json:"introUrl,omitempty" validate:"omitempty,http_url"`
	OutroURL        string  `json:"outroUrl,omitempty" validate:"omitempty,http_url"`
	DeleteOriginal  bool    `json:"deleteOriginal,omitempty"`
	SkipTranscode   bool    `json:"skipTranscode,omitempty"`
	StorageFilePath string  `json:"storageFilePath,omitempty" validate:"omitempty,max=1024"`
	YoutubeURL      string  `json:"youtubeUrl,omitempty" validate:"omitempty,http_url"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodePayload parses and validates a JSON payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, services.Wrap(services.ErrInvalidArgument, "payload", "decode", "malformed JSON", err)
	}
	if err := ValidatePayload(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// ValidatePayload checks field shapes and the exactly-one-source rule.
func ValidatePayload(p Payload) error {
	p.ID = strings.TrimSpace(p.ID)
	if err := payloadValidator().Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return services.Wrap(services.ErrInvalidArgument, "payload", "validate",
				fmt.Sprintf("field %s failed %s", fe.Field(), describeTag(fe)), nil)
		}
		return services.Wrap(services.ErrInvalidArgument, "payload", "validate", "invalid payload", err)
	}
	if !SafeID(p.ID) {
		return services.Wrap(services.ErrInvalidArgument, "payload", "validate", "id must be a single path element", nil)
	}
	_, err := Resolve(p)
	return err
}

// SafeID reports whether id names exactly one path element. Dot entries
// and either separator are refused so ids cannot escape a storage prefix.
func SafeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return false
	}
	return id == path.Base(id)
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

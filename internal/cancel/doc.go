// Package cancel provides the cooperative cancellation token shared by the
// stages of one pipeline run. Stages poll Requested at their checkpoints or
// select on Done; the token never terminates anything by itself.
package cancel

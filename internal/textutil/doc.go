// Package textutil provides filename sanitization and the Content-Disposition
// header used for processed sermon audio.
package textutil

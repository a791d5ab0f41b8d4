package mailcheck

import "errors"

// ErrInvalidOptions is returned by Verify and VerifyMany when the Options
// passed to New cannot be used. The wrapping error names the field.
var ErrInvalidOptions = errors.New("mailcheck: invalid options")

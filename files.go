package admission

import (
	"embed"
)

//go:embed data/email
var emailFS embed.FS

// GetEmailTemplatesFS returns the email templates shipped with this package
func GetEmailTemplatesFS() embed.FS {
	return emailFS
}

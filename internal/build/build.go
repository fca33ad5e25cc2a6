package build

import "strings"

var (
	Version = "dev"
	AppName = "DataTorch Agent"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(strings.ReplaceAll(AppName, " ", "-"))
	}
}

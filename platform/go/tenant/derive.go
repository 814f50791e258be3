package tenant

import (
	"regexp"
	"strings"
)

// maxProjectName is the hosting provider's project name limit.
const maxProjectName = 100

var nonProjectChars = regexp.MustCompile(`[^a-z0-9-]+`)

// BuildBasePrefix returns `<envKey>/chatbots/<chatbotId>/`.
func BuildBasePrefix(envKey, chatbotID string) string {
	envKey = strings.Trim(envKey, "/")
	chatbotID = strings.Trim(chatbotID, "/")
	if envKey == "" {
		return "chatbots/" + chatbotID + "/"
	}
	return envKey + "/chatbots/" + chatbotID + "/"
}

// HostingProjectName returns the hosting project that serves slotID: the lower-cased
// prefix and slot id with anything outside [a-z0-9-] collapsed to a dash.
func HostingProjectName(prefix, slotID string) string {
	name := strings.ToLower(prefix + slotID)
	name = nonProjectChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > maxProjectName {
		name = strings.TrimRight(name[:maxProjectName], "-")
	}
	return name
}

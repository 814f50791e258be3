package tenant

import "strings"

// Space is the naming scope of one chatbot: where its objects live and which hosting
// project serves it.
type Space struct {
	ChatbotID  string
	SlotID     string
	BasePrefix string
}

// NewSpace derives the space of chatbotID deployed into slotID.
func NewSpace(envKey, chatbotID, slotID string) Space {
	return Space{
		ChatbotID:  chatbotID,
		SlotID:     slotID,
		BasePrefix: BuildBasePrefix(envKey, chatbotID),
	}
}

// DocumentPrefix is the object prefix holding every artifact derived from documentID.
func (s Space) DocumentPrefix(documentID string) string {
	prefix := s.BasePrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + "documents/" + strings.Trim(documentID, "/") + "/"
}

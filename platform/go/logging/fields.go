package logging

import "go.uber.org/zap"

// Field helpers keep key names consistent across services so log queries can join on them.

func SlotID(id string) zap.Field       { return zap.String("slot_id", id) }
func ProjectID(id string) zap.Field    { return zap.String("project_id", id) }
func ChatbotID(id string) zap.Field    { return zap.String("chatbot_id", id) }
func DeploymentID(id string) zap.Field { return zap.String("deployment_id", id) }
func Strategy(name string) zap.Field   { return zap.String("strategy", name) }

package service

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	credentials "github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
)

//go:embed schemas/tenant_config.schema.json
var tenantConfigSchema []byte

const tenantConfigSchemaURL = "tenant_config.schema.json"

// TenantConfig is the per-chatbot configuration a deployment is built with.
type TenantConfig struct {
	ChatbotID   string            `json:"chatbotId"`
	DisplayName string            `json:"displayName"`
	Origins     []string          `json:"origins,omitempty"`
	TemplateRef string            `json:"templateRef,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

var compiledTenantConfig = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(tenantConfigSchemaURL, bytes.NewReader(tenantConfigSchema)); err != nil {
		return nil, fmt.Errorf("register tenant config schema: %w", err)
	}
	return compiler.Compile(tenantConfigSchemaURL)
})

// Validate checks cfg against the embedded tenant config schema.
func (cfg TenantConfig) Validate() error {
	schema, err := compiledTenantConfig()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode tenant config: %w", err)
	}
	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("decode tenant config: %w", err)
	}
	if err := schema.Validate(document); err != nil {
		return fmt.Errorf("%w: tenant config: %v", ErrValidation, err)
	}
	return nil
}

// BuildEnv merges tenant variables with the Firebase browser config. The credential keys
// always win over tenant-supplied ones.
func BuildEnv(cfg TenantConfig, cred credentials.Credentials) []EnvVar {
	vars := map[string]EnvVar{}
	for k, v := range cfg.Env {
		vars[k] = EnvVar{Key: k, Value: v, Secret: true}
	}

	public := map[string]string{
		"NEXT_PUBLIC_FIREBASE_API_KEY":             cred.APIKey,
		"NEXT_PUBLIC_FIREBASE_AUTH_DOMAIN":         cred.AuthDomain,
		"NEXT_PUBLIC_FIREBASE_PROJECT_ID":          cred.ProjectID,
		"NEXT_PUBLIC_FIREBASE_APP_ID":              cred.AppID,
		"NEXT_PUBLIC_FIREBASE_STORAGE_BUCKET":      cred.StorageBucket,
		"NEXT_PUBLIC_FIREBASE_MESSAGING_SENDER_ID": cred.MessagingSenderID,
		"NEXT_PUBLIC_FIREBASE_MEASUREMENT_ID":      cred.MeasurementID,
		"NEXT_PUBLIC_CHATBOT_ID":                   cfg.ChatbotID,
		"NEXT_PUBLIC_CHATBOT_NAME":                 cfg.DisplayName,
	}
	for k, v := range public {
		if v == "" {
			continue
		}
		vars[k] = EnvVar{Key: k, Value: v}
	}

	out := make([]EnvVar, 0, len(vars))
	for _, v := range vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

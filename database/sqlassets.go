package sqlassets

import _ "embed"

//go:embed schema/pool/pool_slots.sql
var PoolSlotsSQL string

//go:embed schema/pool/tenant_deployments.sql
var TenantDeploymentsSQL string

//go:embed schema/pool/chatbots.sql
var ChatbotsSQL string

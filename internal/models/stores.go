package models

// Names of the four record stores
const (
	StoreListings = "listings"
	StoreActions  = "actions"
	StoreLeads    = "leads"
	StoreDigests  = "digests"
)

// Record field names shared by the collector and the digest
const (
	FieldItemID     = "item_id"
	FieldTitle      = "title"
	FieldPrice      = "price"
	FieldSeller     = "seller"
	FieldURL        = "url"
	FieldStatus     = "status"
	FieldRule       = "rule"
	FieldRules      = "rules"
	FieldCycleID    = "cycle_id"
	FieldListingKey = "listing_key"
	FieldDay        = "day"
	FieldSlot       = "slot"
	FieldSummary    = "summary"
	FieldRun        = "run"
)

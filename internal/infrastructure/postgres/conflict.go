package postgres

// Conflict targets for the idempotent upserts. Each names a unique constraint
// created by the migrations; replaying the same write lands on the same row.
const (
	conflictProvider              = "(name)"
	conflictInstitution           = "(provider_id, external_id)"
	conflictProviderConnection    = "(provider_id, user_id)"
	conflictInstitutionConnection = "(provider_connection_id, institution_id)"
	conflictAccountConnection     = "(account_id, institution_connection_id)"
	conflictAccount               = "(user_id, account_connection_id)"
	conflictHolding               = "(parent_id, provider_account_id)"
	conflictTransaction           = "(provider_transaction_id, account_id)"
	conflictDeviceToken           = "(token)"
)

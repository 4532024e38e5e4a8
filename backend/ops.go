package backend

// Operation names carried in Error.Op.
const (
	OpConnect            = "connection_create"
	OpSetConcurrency     = "connection_set_concurrency"
	OpBegin              = "connection_start_transaction"
	OpCommit             = "connection_commit_transaction"
	OpRollback           = "connection_rollback_transaction"
	OpClose              = "connection_free"
	OpVersionGetInfo     = "version_get_info"
	OpVersionChangeState = "version_change_state"
	OpVersionCreate      = "version_create"
	OpVersionDelete      = "version_delete"
	OpVersionList        = "version_list"
	OpStateGetInfo       = "state_get_info"
	OpStateCreate        = "state_create"
	OpStateOpen          = "state_open"
	OpStateClose         = "state_close"
	OpStateTrimTree      = "state_trim_tree"
	OpStateDelete        = "state_delete"
	OpStateList          = "state_list"
	OpLayerList          = "registration_get_info_list"
	OpLayerGetInfo       = "registration_get_info"
	OpLayerCreate        = "layer_create"
	OpLayerDelete        = "layer_delete"
	OpFeatureInsert      = "stream_insert_table"
	OpFeatureQuery       = "stream_query"
	OpSessionOpen        = "session_open"
	OpSessionWrite       = "session_write"
)

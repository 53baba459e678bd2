// Tools registered by Register:
//
//	connect              connect the shared session to a Galaxy server
//	get_user             current user profile
//	get_server_info      version and public configuration
//	get_histories        history listing with optional pagination
//	list_history_ids     id and name of every history
//	get_history_details  history metadata and a contents count
//	create_history       create a new history
package tools

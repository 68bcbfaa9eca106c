/*
nlmauth manages the browser session used to talk to NotebookLM.

Usage:

	nlmauth [flags] <command> [arguments]

Commands:

	setup [-headless] [-timeout minutes]   Log in through a browser and save the session
	status [-json]                         Show saved authentication state
	validate                               Check that the saved session still works
	clear                                  Delete saved state and the browser profile
	reauth [-headless] [-timeout minutes]  Clear everything, then run setup
	import-cookies [-file path | -json s]  Import cookies exported by a browser extension

Flags:

	-config file  Config file (default <dir>/config.toml)
	-debug        Enable debug output
	-dir path     Auth data directory

Environment:

	NLM_AUTH_DIR      Auth data directory (default ~/.nlm/auth)
	NLM_BROWSER_PATH  Browser executable
	NLM_DEBUG         Enable debug output

Files:

	<dir>/browser_profile/  Persistent browser profile
	<dir>/state.json        Saved cookies and local storage
	<dir>/auth_info.json    When and how the session was created
	<dir>/config.toml       Optional configuration

import-cookies with no flags reads the export from standard input. On a
terminal it asks for a paste that ends with an empty line; piped input is
read to the end.

Every command exits 0 on success and 1 on failure.
*/
package main

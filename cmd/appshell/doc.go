// Command appshell serves a single-page application: the HTML shell,
// its static files and LESS stylesheets compiled on request.
//
//	appshell serve --port 8080 --env production
//	appshell assets:render       # build fingerprinted bundles
//	appshell route:list          # print the route table
//	appshell config:show         # print the effective configuration
//
// Configuration is read from appshell.yaml (or --config) and APPSHELL_*
// environment variables. Flags win over both.
package main

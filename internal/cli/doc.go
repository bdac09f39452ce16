// Package cli builds the deploygrid command tree. It layers command-line
// flags over the config file, drives the app for each subcommand and maps
// outcomes to process exit codes through ExitError.
package cli

// Package github implements the engine.Engine strategy on top of the
// GitHub REST API using google/go-github. It works against github.com
// by default and against a GitHub Enterprise deployment when a base
// URL is configured.
package github

// Package testsupport provides temp-dir configs, fixture files and ledger
// helpers shared by package tests.
package testsupport

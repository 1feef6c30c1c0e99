// Package updater runs update checks: it asks every configured distribution
// source for its latest release, downloads new releases through a shared
// worker pool, records the versions that fully downloaded and hands
// configured artifacts to the deployment target.
//
// Failures are isolated per distribution and per deployed file; only
// configuration store failures and concurrent runs abort a run.
package updater

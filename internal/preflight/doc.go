// Package preflight provides readiness checks for the binaries and
// filesystem paths vodpipe depends on.
//
// These checks run in three contexts:
//   - The daemon runs RunAll at startup and refuses to serve when a required
//     check fails.
//   - Upload intake calls EnsureFreeSpace before accepting a body so a full
//     staging volume is reported instead of discovered mid-encode.
//   - The health endpoint and "vodpipe check" render the same results.
package preflight

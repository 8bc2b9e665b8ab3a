// Package scheduling talks to the off-chain scheduler that places code
// packages on compute agents. It owns the wire schemas of the scheduler API
// and validates every record on receipt.
package scheduling

// Package journal keeps a durable record of every upload session so that a
// submission whose fee never settled stays visible after the session ends or
// the process restarts.
package journal

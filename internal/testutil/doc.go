// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing messages, sessions and scripted
// backends. These helpers are intentionally minimal and not intended for
// production usage.
package testutil

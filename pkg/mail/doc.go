// Package mail renders transactional notifications from embedded templates,
// assembles them as multipart/alternative messages and submits them to a
// single relay over one implicit-TLS, authenticated SMTP session.
package mail

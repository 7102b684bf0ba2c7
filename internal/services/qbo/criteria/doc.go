// Package criteria turns caller-supplied search filters into the criteria
// shape the QBO query path accepts, renders that shape as QBO query
// language, and pulls counts or rows back out of query responses.
//
// Three input shapes are accepted: an array of clauses (already in wire
// form, passed through), a flat equality map (passed through), and advanced
// options carrying filters, sorting, pagination and count flags. Only the
// advanced form is sanitized and reordered.
package criteria

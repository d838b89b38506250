// Package packet holds the radio wire formats: the query frame sent to a
// node, the fixed-size sensor packet it answers with, and the textual uplink
// serialization of an accepted reading.
package packet

/*
Package ldap implements the directory connector for the sync engine.

The connector owns exactly three concerns:

  - Sessions: Connect dials and authenticates (simple bind or
    GSSAPI/Kerberos) with retry and exponential backoff; Close releases
    the session. One session serves one sync run.
  - Paged search: SearchPaged resubmits the search with the server's
    continuation cookie (RFC 2696) until exhaustion, streaming raw entries
    to the caller in server order. Servers without paging support degrade
    to a single page instead of looping or failing.
  - Decoding: TextValue/TextValues convert directory-native attribute
    encodings (binary SIDs, mixed-endian GUIDs, arbitrary octet strings)
    to comparable text, falling back to the empty string on malformed
    values.

Errors are classified into categories with retryable detection; a
ConnectionError from this package is fatal to a sync run's fetch phase.
*/
package ldap

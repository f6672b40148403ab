// Package tlsroots loads the certificates retouch uses for TLS.
//
// Pool collects trusted roots: the CA that signs client certificates on
// the HTTP API, or extra roots for reaching a remote canvas API. Watcher
// keeps the server certificate current by reloading the key pair when its
// files change, so certificates can be rotated without a restart.
package tlsroots

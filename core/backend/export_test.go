package backend

// ETag exposes the ETag computation to the external tests
var ETag = bytesToEtag

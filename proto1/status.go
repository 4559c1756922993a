package proto1

// reasonPhrases covers the status codes this engine itself ever
// synthesizes on the wire (parser errors, CONNECT failures) plus the
// common set an application is likely to set. Anything else falls back to
// a generic phrase — RFC 9112 treats the reason phrase as advisory only.
var reasonPhrases = map[string]string{
	"100": "Continue",
	"101": "Switching Protocols",
	"200": "OK",
	"201": "Created",
	"202": "Accepted",
	"204": "No Content",
	"206": "Partial Content",
	"301": "Moved Permanently",
	"302": "Found",
	"304": "Not Modified",
	"400": "Bad Request",
	"401": "Unauthorized",
	"403": "Forbidden",
	"404": "Not Found",
	"405": "Method Not Allowed",
	"408": "Request Timeout",
	"411": "Length Required",
	"413": "Payload Too Large",
	"414": "URI Too Long",
	"426": "Upgrade Required",
	"431": "Request Header Fields Too Large",
	"500": "Internal Server Error",
	"501": "Not Implemented",
	"502": "Bad Gateway",
	"503": "Service Unavailable",
	"504": "Gateway Timeout",
}

func reasonPhrase(status string) string {
	if r, ok := reasonPhrases[status]; ok {
		return r
	}
	return "Unknown"
}

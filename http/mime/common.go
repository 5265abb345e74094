package mime

type MIME = string

const (
	OctetStream    MIME = "application/octet-stream"
	Plain          MIME = "text/plain"
	HTML           MIME = "text/html"
	JSON           MIME = "application/json"
	FormUrlencoded MIME = "application/x-www-form-urlencoded"
	CSS            MIME = "text/css"
	JS             MIME = "text/javascript"
	ICO            MIME = "image/vnd.microsoft.icon"
	SVG            MIME = "image/svg+xml"
	// Prometheus is the text exposition format served on the metrics route.
	Prometheus MIME = "text/plain; version=0.0.4; charset=utf-8"
)

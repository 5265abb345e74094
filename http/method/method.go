package method

type Method uint8

const (
	Unknown Method = iota
	GET
	POST

	// Count is the last one enum, so contains the greatest integer value of all the
	// methods. So real number of methods is lower by 1
	Count = iota - 1
)

// List contains all the methods a request line may start with.
var List = []Method{GET, POST}

// Parse returns the method named by str, or Unknown.
func Parse(str string) Method {
	switch str {
	case "GET":
		return GET
	case "POST":
		return POST
	}

	return Unknown
}

// Prefix returns the method token the request line starts with, including the
// trailing space.
func (m Method) Prefix() string {
	switch m {
	case GET:
		return "GET "
	case POST:
		return "POST "
	}

	return ""
}

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case POST:
		return "POST"
	}

	return "Unknown"
}

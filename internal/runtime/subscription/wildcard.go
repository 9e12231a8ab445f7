package subscription

import "strings"

// MQTTFilter matches MQTT topic filters: "+" matches one level, a trailing
// "#" matches any number of levels including none. Topics starting with "$"
// are not matched by a leading wildcard.
func MQTTFilter(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}
	f := strings.Split(filter, "/")
	s := strings.Split(topic, "/")
	for i, tok := range f {
		if tok == "#" && i == len(f)-1 {
			return true
		}
		if i >= len(s) || (tok != "+" && tok != s[i]) {
			return false
		}
	}
	return len(f) == len(s)
}

// NATSSubject matches NATS subjects: "*" matches one token, a trailing ">"
// matches one or more tokens.
func NATSSubject(filter, subject string) bool {
	f := strings.Split(filter, ".")
	s := strings.Split(subject, ".")
	for i, tok := range f {
		if tok == ">" && i == len(f)-1 {
			return len(s) > i
		}
		if i >= len(s) || (tok != "*" && tok != s[i]) {
			return false
		}
	}
	return len(f) == len(s)
}

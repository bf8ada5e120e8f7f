package telephony

import (
	"bytes"
	"encoding/xml"
)

// TwiML messaging responses. Inbound SMS is answered with an empty <Response/>
// unless an auto-reply is configured.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlMessage struct {
	XMLName xml.Name `xml:"Message"`
	Body    string   `xml:",chardata"`
}

// RenderMessagingTwiML renders a messaging response; an empty reply yields <Response/>.
func RenderMessagingTwiML(reply string) (string, error) {
	resp := twimlResponse{}
	if reply != "" {
		resp.Verbs = append(resp.Verbs, twimlMessage{Body: reply})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(resp); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

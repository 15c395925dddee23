package wsrelay

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/wsmitm/internal/wsproto"
)

// negotiateExtensions parses the negotiated Sec-WebSocket-Extensions header
// text and builds one extension list per leg. Only permessage-deflate is
// recognized; for it, two independent instances are constructed from the same
// parameter string, because compression state is direction-specific and must
// not be shared between the legs. Unknown extension names are logged and
// skipped; negotiation never fails the session.
func negotiateExtensions(header string) (client, server []wsproto.Extension) {
	for _, token := range strings.Split(header, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, _, _ := strings.Cut(token, ";")
		name = strings.TrimSpace(name)
		if name != wsproto.ExtensionPerMessageDeflate {
			log.Infof("Ignoring unknown WebSocket extension %q.", name)
			continue
		}
		clientDeflate, err := wsproto.NewPerMessageDeflate(token)
		if err != nil {
			log.Warnf("Ignoring malformed WebSocket extension token %q: %v", token, err)
			continue
		}
		serverDeflate, err := wsproto.NewPerMessageDeflate(token)
		if err != nil {
			log.Warnf("Ignoring malformed WebSocket extension token %q: %v", token, err)
			continue
		}
		client = append(client, clientDeflate)
		server = append(server, serverDeflate)
	}
	return client, server
}

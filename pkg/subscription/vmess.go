package subscription

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

// vmessNode is the node descriptor embedded in a vmess:// subscription line
type vmessNode struct {
	Ps   string  `json:"ps"`
	Add  string  `json:"add"`
	Port flexInt `json:"port"`
	ID   string  `json:"id"`
	Aid  flexInt `json:"aid"`
	Net  string  `json:"net"`
	Path string  `json:"path"`
	Host string  `json:"host"`
	TLS  string  `json:"tls"`
}

// flexInt accepts both JSON numbers and numeric strings; subscription
// payloads are inconsistent about which one they use
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// node is one parsed subscription entry
type node struct {
	Type        string
	Description string
	vmess       *vmessNode
}

// parseLine parses one subscription line of the form
// <scheme>://<base64 node descriptor>
func parseLine(line string) (*node, error) {
	scheme, payload, found := strings.Cut(line, "://")
	if !found {
		return nil, errors.NewValidationError("subscription line has no scheme", nil).WithContext("line", line)
	}

	decoded, err := decodeBase64(payload)
	if err != nil {
		return nil, errors.NewValidationError("failed to decode node descriptor", err).WithContext("scheme", scheme)
	}

	n := &node{
		Type:        scheme,
		Description: "<unknown>",
	}

	if scheme == "vmess" {
		var v vmessNode
		if err := json.Unmarshal(decoded, &v); err != nil {
			return nil, errors.NewValidationError("failed to parse vmess node descriptor", err)
		}
		n.vmess = &v
		n.Description = v.Ps
	}

	return n, nil
}

// decodeBase64 tolerates both padded and unpadded payloads
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Engine config shape for a single node's outbound settings. Field layout
// matches what the proxy engine's config merge expects.

type engineConfig struct {
	Outbounds []outbound `json:"outbounds"`
}

type outbound struct {
	Protocol       string           `json:"protocol"`
	Settings       outboundSettings `json:"settings"`
	StreamSettings streamSettings   `json:"streamSettings"`
}

type outboundSettings struct {
	Vnext []vnextServer `json:"vnext"`
}

type vnextServer struct {
	Address string       `json:"address"`
	Port    int          `json:"port"`
	Users   []vnextUsers `json:"users"`
}

type vnextUsers struct {
	ID      string `json:"id"`
	AlterID int    `json:"alterId"`
}

type streamSettings struct {
	Network    string     `json:"network"`
	WsSettings wsSettings `json:"wsSettings"`
	Security   string     `json:"security"`
}

type wsSettings struct {
	Path string `json:"path"`
	Host string `json:"host"`
}

// engineConfigForNode converts a parsed node into the outbound engine config.
// Returns nil for node types the converter does not support.
func engineConfigForNode(n *node) *engineConfig {
	if n.Type != "vmess" || n.vmess == nil {
		return nil
	}
	v := n.vmess
	return &engineConfig{
		Outbounds: []outbound{
			{
				Protocol: "vmess",
				Settings: outboundSettings{
					Vnext: []vnextServer{
						{
							Address: v.Add,
							Port:    int(v.Port),
							Users: []vnextUsers{
								{
									ID:      v.ID,
									AlterID: int(v.Aid),
								},
							},
						},
					},
				},
				StreamSettings: streamSettings{
					Network: v.Net,
					WsSettings: wsSettings{
						Path: v.Path,
						Host: v.Host,
					},
					Security: v.TLS,
				},
			},
		},
	}
}

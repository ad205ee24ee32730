package discovery

import (
	"fmt"
	"os"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType is the fixed mDNS/DNS-SD service type advertised
// alongside the UDP broadcast answerer.
const mdnsServiceType = "_tbnf-host._tcp"

// EnableMDNS registers an additional mDNS/Avahi advertisement for the
// answerer's descriptor, for networks where UDP broadcast is filtered but
// multicast DNS is not. It is optional and independent of the UDP answer
// loop started by Start; callers that don't need it can skip calling this.
func (a *Answerer) EnableMDNS(instanceName string) error {
	if instanceName == "" {
		host, _ := os.Hostname()
		instanceName = fmt.Sprintf("%s-%s", a.descriptor.Name, host)
	}
	meta := []string{
		"game=" + a.descriptor.GameIdentifier,
		"name=" + a.descriptor.Name,
	}
	svc, err := zeroconf.Register(instanceName, mdnsServiceType, "local.", a.tcpPort, meta, nil)
	if err != nil {
		return fmt.Errorf("discovery: mdns register: %w", err)
	}
	a.mdnsService = svc
	return nil
}

// closeMDNS shuts the mDNS advertisement down if EnableMDNS was called.
func (a *Answerer) closeMDNS() {
	if a.mdnsService != nil {
		a.mdnsService.Shutdown()
		a.mdnsService = nil
	}
}

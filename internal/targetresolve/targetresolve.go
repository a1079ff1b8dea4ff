// Package targetresolve turns a selected orchestrator.Resource into a
// selector.Target, the shape both the Query Responder and the Data
// Proxy's default-session establishment need to build from a chosen
// candidate.
package targetresolve

import (
	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/orchestrator"
	"github.com/nitecon/udp-director/internal/selector"
)

// Result carries the resolved target plus the pieces a multi-port query
// response needs to echo back to the client.
type Result struct {
	Target    selector.Target
	Address   string
	Ports     map[string]int
	MultiPort bool
}

// Resolve extracts an address and port(s) from chosen per mapping, and
// builds the full port map every configured data port must appear in.
func Resolve(chosen orchestrator.Resource, mapping config.ResourceMapping, dataPorts []config.DataPortConfig) (Result, error) {
	address, err := chosen.ExtractAddress(mapping.AddressPath, mapping.AddressType)
	if err != nil {
		return Result{}, err
	}

	portMap := make(map[selector.PortKey]int)

	if len(mapping.Ports) > 0 {
		ports, err := chosen.ExtractPorts(mapping.Ports)
		if err != nil {
			return Result{}, err
		}
		for _, pm := range mapping.Ports {
			for _, dp := range dataPorts {
				if dp.Name == pm.Name {
					portMap[selector.PortKey{Port: dp.Port, Protocol: dp.Protocol}] = ports[pm.Name]
				}
			}
		}
		return Result{
			Target:    selector.Target{BackendIP: address, PortMap: portMap},
			Address:   address,
			Ports:     ports,
			MultiPort: true,
		}, nil
	}

	port, err := chosen.ExtractPort(mapping.PortPath, mapping.PortName)
	if err != nil {
		return Result{}, err
	}
	for _, dp := range dataPorts {
		portMap[selector.PortKey{Port: dp.Port, Protocol: dp.Protocol}] = port
	}

	return Result{Target: selector.Target{BackendIP: address, PortMap: portMap}}, nil
}

package domain

var Tables = []interface{}{
	// Fleet
	&MonNode{},
	&MonReplicationLink{},
	// Alerting
	&MonAlert{},
	// Remediation
	&MonRemediationLog{},
	// Security
	&MonThreatIndicator{},
}

package reftable

import "github.com/WessleyAI/diagtrace/engine/domain"

var defaultECUs = map[string]ECU{
	"7E0": {Name: "PCM (Powertrain Control Module)", Critical: true},
	"7E1": {Name: "TCM (Transmission Control Module)", Critical: true},
	"7E2": {Name: "Hybrid Powertrain Control Module", Critical: true},
	"7E4": {Name: "BECM (Battery Energy Control Module)", Critical: true},
	"726": {Name: "BCM (Body Control Module)", Critical: true},
	"727": {Name: "ACM (Audio Control Module)"},
	"720": {Name: "IPC (Instrument Panel Cluster)"},
	"730": {Name: "PSCM (Power Steering Control Module)", Critical: true},
	"733": {Name: "HVAC Control Module"},
	"736": {Name: "PAM (Parking Aid Module)"},
	"737": {Name: "RCM (Restraints Control Module)", Critical: true},
	"740": {Name: "DDM (Driver Door Module)"},
	"741": {Name: "PDM (Passenger Door Module)"},
	"746": {Name: "DSM (Driver Seat Module)"},
	"750": {Name: "SCCM (Steering Column Control Module)"},
	"754": {Name: "TCU (Telematics Control Unit)"},
	"760": {Name: "ABS (Anti-lock Brake System)", Critical: true},
	"764": {Name: "CCM (Cruise Control Module)"},
	"765": {Name: "OCS (Occupant Classification System)", Critical: true},
	"775": {Name: "GPSM (Global Positioning System Module)"},
	"7A6": {Name: "FCIM (Front Controls Interface Module)"},
	"7C4": {Name: "SODL (Side Obstacle Detection Left)"},
	"7C6": {Name: "SODR (Side Obstacle Detection Right)"},
	"7D0": {Name: "APIM (Accessory Protocol Interface Module)"},
	"716": {Name: "GWM (Gateway Module)", Critical: true},
	"706": {Name: "IPMA (Image Processing Module A)"},
}

var defaultNRCs = map[string]NRC{
	"10": {Text: "General reject"},
	"11": {Text: "Service not supported", CategoryHint: domain.CategoryCommunication},
	"12": {Text: "Sub-function not supported", CategoryHint: domain.CategoryCommunication},
	"13": {Text: "Incorrect message length or invalid format", CategoryHint: domain.CategoryCommunication},
	"14": {Text: "Response too long", CategoryHint: domain.CategoryCommunication},
	"21": {Text: "Busy, repeat request", CategoryHint: domain.CategoryBusyPending},
	"22": {Text: "Conditions not correct", CategoryHint: domain.CategoryPrecondition},
	"24": {Text: "Request sequence error", CategoryHint: domain.CategoryPrecondition},
	"25": {Text: "No response from sub-net component", CategoryHint: domain.CategoryCommunication},
	"26": {Text: "Failure prevents execution of requested action"},
	"31": {Text: "Request out of range", CategoryHint: domain.CategoryPrecondition},
	"33": {Text: "Security access denied", CategoryHint: domain.CategorySecurity},
	"35": {Text: "Invalid key", CategoryHint: domain.CategorySecurity},
	"36": {Text: "Exceeded number of attempts", CategoryHint: domain.CategorySecurity},
	"37": {Text: "Required time delay not expired", CategoryHint: domain.CategorySecurity},
	"70": {Text: "Upload/download not accepted", CategoryHint: domain.CategoryProgramming},
	"71": {Text: "Transfer data suspended", CategoryHint: domain.CategoryProgramming},
	"72": {Text: "General programming failure", CategoryHint: domain.CategoryProgramming},
	"73": {Text: "Wrong block sequence counter", CategoryHint: domain.CategoryDataIntegrity},
	"78": {Text: "Request correctly received, response pending", CategoryHint: domain.CategoryBusyPending},
	"7E": {Text: "Sub-function not supported in active session", CategoryHint: domain.CategoryPrecondition},
	"7F": {Text: "Service not supported in active session", CategoryHint: domain.CategoryPrecondition},
	"92": {Text: "Voltage too high", CategoryHint: domain.CategoryPowerVoltage},
	"93": {Text: "Voltage too low", CategoryHint: domain.CategoryPowerVoltage},
	"94": {Text: "Voltage out of range", CategoryHint: domain.CategoryPowerVoltage},
}

// defaultDIDs is the "important" allow-list; every other DID is noise.
var defaultDIDs = map[string]string{
	"F180": "Boot software identification",
	"F181": "Application software identification",
	"F182": "Application data identification",
	"F186": "Active diagnostic session",
	"F187": "Spare part number",
	"F188": "ECU software number",
	"F189": "ECU software version",
	"F18A": "System supplier identifier",
	"F18C": "ECU serial number",
	"F190": "VIN",
	"F191": "ECU hardware number",
	"F192": "Supplier hardware number",
	"F193": "Supplier hardware version",
	"F194": "Supplier software number",
	"F195": "Supplier software version",
	"F197": "System name",
	"F19E": "ODX file identifier",
	"F1A0": "Strategy part number",
	"DD00": "Global real time",
	"DD01": "Odometer",
	"DD02": "Module supply voltage",
	"DD05": "Outside air temperature",
	"4028": "Battery state of charge",
	"D100": "Active diagnostic session (manufacturer)",
}

// Default returns the built-in tables.
func Default() *Tables {
	return MustNew(defaultECUs, defaultNRCs, defaultDIDs)
}

// CriticalNRCs are the codes that raise confidence when attached to a root.
var CriticalNRCs = map[string]bool{
	"33": true,
	"35": true,
	"36": true,
	"93": true,
	"94": true,
}

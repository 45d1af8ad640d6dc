package tcg

import "fmt"

// EventType is the type of a TCG event log record.
type EventType uint32

// TCG PC Client Platform Firmware Profile event types.
const (
	EvPrebootCert           EventType = 0x0
	EvPostCode              EventType = 0x1
	EvUnused                EventType = 0x2
	EvNoAction              EventType = 0x3
	EvSeparator             EventType = 0x4
	EvAction                EventType = 0x5
	EvEventTag              EventType = 0x6
	EvSCRTMContents         EventType = 0x7
	EvSCRTMVersion          EventType = 0x8
	EvCPUMicrocode          EventType = 0x9
	EvPlatformConfigFlags   EventType = 0xa
	EvTableOfDevices        EventType = 0xb
	EvCompactHash           EventType = 0xc
	EvIPL                   EventType = 0xd
	EvIPLPartitionData      EventType = 0xe
	EvNonhostCode           EventType = 0xf
	EvNonhostConfig         EventType = 0x10
	EvNonhostInfo           EventType = 0x11
	EvOmitBootDeviceEvents  EventType = 0x12
	EvEFIEventBase          EventType = 0x80000000
	EvEFIVariableDriverConf EventType = EvEFIEventBase + 0x1
	EvEFIVariableBoot       EventType = EvEFIEventBase + 0x2
	EvEFIBootServicesApp    EventType = EvEFIEventBase + 0x3
	EvEFIBootServicesDriver EventType = EvEFIEventBase + 0x4
	EvEFIRuntimeServicesDrv EventType = EvEFIEventBase + 0x5
	EvEFIGPTEvent           EventType = EvEFIEventBase + 0x6
	EvEFIAction             EventType = EvEFIEventBase + 0x7
	EvEFIPlatformFwBlob     EventType = EvEFIEventBase + 0x8
	EvEFIHandoffTables      EventType = EvEFIEventBase + 0x9
	EvEFIVariableAuthority  EventType = EvEFIEventBase + 0x10
)

var eventTypeNames = map[EventType]string{
	EvPrebootCert:           "EV_PREBOOT_CERT",
	EvPostCode:              "EV_POST_CODE",
	EvUnused:                "EV_UNUSED",
	EvNoAction:              "EV_NO_ACTION",
	EvSeparator:             "EV_SEPARATOR",
	EvAction:                "EV_ACTION",
	EvEventTag:              "EV_EVENT_TAG",
	EvSCRTMContents:         "EV_S_CRTM_CONTENTS",
	EvSCRTMVersion:          "EV_S_CRTM_VERSION",
	EvCPUMicrocode:          "EV_CPU_MICROCODE",
	EvPlatformConfigFlags:   "EV_PLATFORM_CONFIG_FLAGS",
	EvTableOfDevices:        "EV_TABLE_OF_DEVICES",
	EvCompactHash:           "EV_COMPACT_HASH",
	EvIPL:                   "EV_IPL",
	EvIPLPartitionData:      "EV_IPL_PARTITION_DATA",
	EvNonhostCode:           "EV_NONHOST_CODE",
	EvNonhostConfig:         "EV_NONHOST_CONFIG",
	EvNonhostInfo:           "EV_NONHOST_INFO",
	EvOmitBootDeviceEvents:  "EV_OMIT_BOOT_DEVICE_EVENTS",
	EvEFIEventBase:          "EV_EFI_EVENT_BASE",
	EvEFIVariableDriverConf: "EV_EFI_VARIABLE_DRIVER_CONFIG",
	EvEFIVariableBoot:       "EV_EFI_VARIABLE_BOOT",
	EvEFIBootServicesApp:    "EV_EFI_BOOT_SERVICES_APPLICATION",
	EvEFIBootServicesDriver: "EV_EFI_BOOT_SERVICES_DRIVER",
	EvEFIRuntimeServicesDrv: "EV_EFI_RUNTIME_SERVICES_DRIVER",
	EvEFIGPTEvent:           "EV_EFI_GPT_EVENT",
	EvEFIAction:             "EV_EFI_ACTION",
	EvEFIPlatformFwBlob:     "EV_EFI_PLATFORM_FIRMWARE_BLOB",
	EvEFIHandoffTables:      "EV_EFI_HANDOFF_TABLES",
	EvEFIVariableAuthority:  "EV_EFI_VARIABLE_AUTHORITY",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_EVENT_TYPE(0x%x)", uint32(t))
}

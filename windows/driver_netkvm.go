package windows

var netkvmFiles = []string{
	"netkvm.cat",
	"netkvm.inf",
	"netkvm.pdb",
	"netkvm.sys",
}

var driverNetKVM = DriverInfo{
	Files:   withFiles(netkvmFiles, "netkvmco.dll", "netkvmco.pdb", "readme.doc"),
	OSFiles: forOSes(netkvmFiles, "xp", "2k3"),
}

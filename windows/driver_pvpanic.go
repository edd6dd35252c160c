package windows

var pvpanicFiles = []string{
	"pvpanic.cat",
	"pvpanic.inf",
	"pvpanic.pdb",
	"pvpanic.sys",
}

var driverPvpanic = DriverInfo{
	Files: withFiles(pvpanicFiles, wdfCoInstaller01011),
	OSFiles: mergeOSFiles(
		forOSes(withFiles(pvpanicFiles, wdfCoInstaller01009), "w7", "2k8", "2k8R2"),
		forOSes(pvpanicFiles, win10OSes...),
	),
}

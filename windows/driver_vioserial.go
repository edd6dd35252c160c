package windows

var vioserialFiles = []string{
	"vioser.cat",
	"vioser.inf",
	"vioser.pdb",
	"vioser.sys",
}

var driverVioserial = DriverInfo{
	CatalogName: "vioser",
	Files:       withFiles(vioserialFiles, wdfCoInstaller01011),
	OSFiles: mergeOSFiles(
		forOSes(withFiles(vioserialFiles, wdfCoInstaller01009), legacyOSes...),
		forOSes(vioserialFiles, win10OSes...),
	),
}

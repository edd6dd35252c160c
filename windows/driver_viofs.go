package windows

var viofsFiles = []string{
	"viofs.cat",
	"viofs.inf",
	"viofs.pdb",
	"viofs.sys",
	"virtiofs.exe",
	"virtiofs.pdb",
}

var driverViofs = DriverInfo{
	Files: viofsFiles,
	OSFiles: mergeOSFiles(
		forOSes(withFiles(viofsFiles, wdfCoInstaller01011), win8OSes...),
		forOSes(viofsFiles, win10OSes...),
	),
}

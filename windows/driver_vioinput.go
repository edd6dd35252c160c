package windows

var vioinputFiles = []string{
	"vioinput.cat",
	"vioinput.inf",
	"vioinput.pdb",
	"vioinput.sys",
	"viohidkmdf.pdb",
	"viohidkmdf.sys",
}

// Windows 10 and newer don't need the coinstaller.
var driverVioinput = DriverInfo{
	Files: vioinputFiles,
	OSFiles: mergeOSFiles(
		forOSes(withFiles(vioinputFiles, wdfCoInstaller01009), "w7", "2k8R2"),
		forOSes(withFiles(vioinputFiles, wdfCoInstaller01011), win8OSes...),
	),
}

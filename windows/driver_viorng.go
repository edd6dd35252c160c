package windows

var viorngFiles = []string{
	"viorng.cat",
	"viorng.inf",
	"viorng.pdb",
	"viorng.sys",
	"viorngci.dll",
	"viorngci.pdb",
	"viorngum.dll",
	"viorngum.pdb",
}

var driverViorng = DriverInfo{
	Files: withFiles(viorngFiles, wdfCoInstaller01011),
	OSFiles: mergeOSFiles(
		forOSes(withFiles(viorngFiles, wdfCoInstaller01009), legacyOSes...),
		forOSes(viorngFiles, win10OSes...),
	),
}

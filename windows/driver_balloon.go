package windows

var balloonFiles = []string{
	"balloon.cat",
	"balloon.inf",
	"balloon.pdb",
	"balloon.sys",
	"blnsvr.exe",
	"blnsvr.pdb",
}

var driverBalloon = DriverInfo{
	Files: withFiles(balloonFiles, wdfCoInstaller01011),
	OSFiles: mergeOSFiles(
		forOSes(withFiles(balloonFiles, wdfCoInstaller01009), legacyOSes...),
		forOSes(balloonFiles, win10OSes...),
	),
}

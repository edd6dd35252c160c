package windows

var driverViostor = DriverInfo{
	Files: []string{
		"viostor.cat",
		"viostor.inf",
		"viostor.pdb",
		"viostor.sys",
	},
}

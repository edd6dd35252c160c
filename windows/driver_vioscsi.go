package windows

var driverVioscsi = DriverInfo{
	Files: []string{
		"vioscsi.cat",
		"vioscsi.inf",
		"vioscsi.pdb",
		"vioscsi.sys",
	},
}

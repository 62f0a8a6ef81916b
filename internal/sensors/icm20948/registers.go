package icm20948

// Register map per the ICM-20948 and AK09916 datasheets. The chip exposes
// four register banks behind a single bank-select register; bank 0 is the
// documented default and every sequence here restores it before returning.

const (
	addrDefault = 0x68

	// AK09916 magnetometer behind the pass-through master. The read/write
	// flag is OR-ed into the peer address programmed into the slave
	// registers.
	addrMag      = 0x0C
	magFlagRead  = 0x80
	magFlagWrite = 0x00

	regBankSel = 0x7F

	// Bank 0.
	regWhoAmI      = 0x00
	whoAmIVal      = 0xEA
	regUserCtrl    = 0x03
	bitI2CMstEn    = 0x20
	regPwrMgmt1    = 0x06
	bitReset       = 0x80
	bitRunMode     = 0x01
	regAccelXoutH  = 0x2D
	regGyroXoutH   = 0x33
	regExtSensData = 0x3B

	// Bank 2.
	regGyroSmplrtDiv   = 0x00
	regGyroConfig1     = 0x01
	bitGyroDLPFCfg6    = 0x30
	bitGyroFS1000Dps   = 0x04
	bitGyroDLPFEn      = 0x01
	regAccelSmplrtDiv2 = 0x11
	regAccelConfig     = 0x14
	bitAccelDLPFCfg6   = 0x30
	bitAccelFS2G       = 0x00
	bitAccelDLPFEn     = 0x01

	// Bank 3: embedded I2C master slave-transaction registers.
	regSlv0Addr = 0x03
	regSlv0Reg  = 0x04
	regSlv0Ctrl = 0x05
	bitSlvEn    = 0x80
	maskSlvLen  = 0x07
	regSlv1Addr = 0x07
	regSlv1Reg  = 0x08
	regSlv1Ctrl = 0x09
	regSlv1DO   = 0x0A

	// AK09916 register space.
	regMagWia1      = 0x00
	magWia1Val      = 0x48
	regMagWia2      = 0x01
	magWia2Val      = 0x09
	regMagStatus    = 0x10
	bitMagDataReady = 0x01
	regMagData      = 0x11
	magDataLen      = 6
	regMagCntl2     = 0x31
	magModeCont20Hz = 0x04
)

// Sensitivity scale factors for the configured full-scale ranges.
const (
	gyroLSBPerDps = 32.8    // ±1000 dps
	accelLSBPerG  = 16384.0 // ±2 g
	magUTPerLSB   = 0.15    // ±4900 µT

	// Approximate pi/180, folded into the gyro count -> rad/s conversion
	// feeding the orientation filter.
	degToRad = 0.0175
)

const (
	calibrationSamples = 32
	magReadyAttempts   = 20
)

package dynamixel

// crcPolynomial is the protocol 2.0 CRC-16 generator: x^16+x^15+x^2+1,
// unreflected, seed 0.
const crcPolynomial = 0x8005

var crcTable = makeCRCTable(crcPolynomial)

func makeCRCTable(poly uint16) *[256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return &table
}

func updateCRC(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}

func checksumCRC(data []byte) uint16 {
	return updateCRC(0, data)
}

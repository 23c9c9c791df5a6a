// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

package chunker

// gearTable is a fixed pseudo-random permutation used by the gear hash.
// Its exact values don't matter for correctness, only that they are
// fixed across runs and peers so two peers chunk identical bytes
// identically.
var gearTable = [256]uint64{
	0xecefe37b9e250d03, 0xb5bab1cd888417a5, 0x922badb05da83cff, 0xbb5d75b895f628f2,
	0xc6737b8b2a6a7b5f, 0x5531ae6dd30a286e, 0xa28718e5623a7a75, 0x5c1ed35fca2410fd,
	0xfee29f53ebf644bb, 0x643cb56d4ec10fc6, 0xb2767375fe03e76f, 0xc2f40b3034775758,
	0xdd23f7b6a801cf8b, 0x5d685155e98cd7d9, 0x6cecc2581bfa530d, 0xa29c4db3d2083355,
	0xe66eb1186613c33d, 0x8161701f10ba53d8, 0xab0a0d83b2ff5134, 0xe369ab3d591d3569,
	0x67433a8667518339, 0xbccfb637cd367ad1, 0x4f93de30ccd1118f, 0x0490392aa9eb7262,
	0x5a695365d51f25e6, 0x1e5876bf982e524e, 0x3f12cc0c75ffbff5, 0x2bd4e7abf522dfdc,
	0xda1298c4cbb452ae, 0xade42791505078ba, 0xebf96c57b0c751a5, 0x9ac68d26ea43fe43,
	0x9a795ff675084791, 0xcdd25aa143cd9d75, 0x8c39d6bb337385ed, 0xa36aec07113a972f,
	0xf83037f4868375cb, 0xf84360359e615e24, 0xc604715793c9c8fe, 0x127e2cc80b3bbf03,
	0xf666c60f684ff42b, 0xe6e2343ea725f23c, 0x0dc7f0789ea7a4fb, 0x0463522cacf40c45,
	0x3262c798a28f38bd, 0x1ac66dea32700980, 0x3252b97648f0e642, 0xbfc5c2a173cbc7fd,
	0xffe95f02eaa1c37b, 0x9194e696cc596130, 0x0330f04d5074d85b, 0xefd6a13ecb9fd223,
	0x5566488c9c5cf234, 0x9275bab26ea29bd0, 0x3a92fc19ca5976a6, 0x0bbbaed58cb33116,
	0xfa892d8dc6a7ba53, 0xb9fe9f2d8e2f5cad, 0x4eab219aa5504f71, 0xe433713dd932b231,
	0x9c84ebd836b1cc9f, 0x2e488841f97646d6, 0x86d6b7178771830d, 0x2f5b55d587485ff5,
	0xa9a29c4cc67b74e2, 0xbf11b34d0ce941cc, 0xb421b5ba7ea20251, 0x95714c91bc8b306f,
	0xf9307a7174870975, 0x0649d0ebe6171071, 0x85b568b4ce13c2e4, 0x8ad5f5117cd28612,
	0xa779cfe5c08eeee9, 0xeed81733ba9746a3, 0xbc15526a5a449457, 0xcc638d6a8ef1fb25,
	0xa508c8e891a8623e, 0x4303f92241dd9a9f, 0xb5710cdb11190839, 0xf2a57b172167d343,
	0xe75452800f140e3f, 0x50e84fee2b8cac8f, 0x1413b58cd1ea37fc, 0x70806354311e18c9,
	0x8a59aed2f3e1f4fc, 0x40c7c159d561f591, 0x0dbbff09e0a94677, 0x2663ba178df6073d,
	0x59667df96d53855d, 0xb78b29819b3c8f00, 0xe81e97b7e1921b65, 0x0af84fd9ee5744ef,
	0x4999dee86e10d8ac, 0xf8a82a8dbdb78c3f, 0x0e531c1727d311e8, 0x7618f5fda24898ef,
	0x6164b99c58e8abfc, 0x355ac876118344eb, 0xa83bc84c5a384ca0, 0xa4cc68aaad46e79a,
	0x437f7e5c99d88c4f, 0x36b87e69b7a60ec1, 0x22d99277310791bb, 0x6451fadd7bebc774,
	0x6df9f7219cf8d97f, 0x40bc08848d85b315, 0x38b08a0528e3d333, 0xfdc95e56b61e20f7,
	0x5570b28ed7b9ba35, 0x9fd67893649866e0, 0xcd4e51cd31ccdcbd, 0xf52ad9d2c3424211,
	0xedf86d309ff95cca, 0xef320f9e6ae31520, 0xb7c8cf3528ba4db2, 0x9f39d060781e271e,
	0xa111b92eb29983bc, 0x0a14680d52591d5f, 0x8a3b319f07bd9483, 0x312ec7c899961393,
	0x6ffedc96a42ca3e6, 0xc363be294e939f7b, 0xf5931159f166df63, 0x50ac78e38bce90e8,
	0x670370e8c7e29a0a, 0x5bd36272dfbe3b62, 0xead13c41399fcfd6, 0xe451ef0c4e26b0b8,
	0x9483f54870a8211b, 0xf7375d416109dfb9, 0x61553c85a2f4e8b9, 0x9fa88bba24e1ba2d,
	0x468fdec0d202751c, 0xbf0d1338c339627c, 0x62ab06433c9921ed, 0xb556ec05d02819d9,
	0x75f53e2a15f909cc, 0x00bc9d0cb1ac56a2, 0x15f6168557adf7db, 0xee87e8a2d75ce2e2,
	0x7de1a7ac4674252d, 0xd1cc230286f40248, 0xe885b64f981d1baa, 0xff195e1b63859e99,
	0x0982694d23b8ef17, 0xf178bcbddbdce867, 0x94c6e3f48118560b, 0x320ffd4660f80c27,
	0x71be74bca3b5c6c4, 0xaac04cfd1d1a63b5, 0x4d21b0cb3e36eee3, 0x7ddc4a1c0d606e0b,
	0xb78c2f91ca726265, 0x5b0c383c36646367, 0x54117a0e88f3ae91, 0x46da2d6dedce70dc,
	0xf82272a99478e208, 0xae43321f1a5bd44a, 0xac4c718adb3f0d8a, 0x270cf21df34407f8,
	0xc534272e817d8a78, 0xabedb4a197490590, 0x0b10b271a4ec780f, 0x8f78a664a41f6cf8,
	0x4bd7ee487f0b4c55, 0x26101d6e040e5825, 0x7745f6e125ec0c93, 0x1490b165fa503516,
	0xdf8ce433ea4adfc4, 0xbba0cbd5a638c325, 0x7d29c6d99d823b35, 0x75223f21ee345182,
	0xb8c273f1bc356740, 0x2cde9d660556d1dd, 0x315baf27ca6cff02, 0x3caf3403298e1f9e,
	0x390ae888c0776b02, 0x0ad4994fa5d53bc4, 0xa1f3ab06b5fb045d, 0x70ced408cc99eb12,
	0xb66c4ef77601648a, 0x67f25bface20a8e2, 0x4e91b1e1ac58bc7d, 0x50151c6dc099797c,
	0xb0f2badc066a2d52, 0x5a6301436d20bd39, 0xa1570f48caceb3dd, 0xc8f4cee61a3aa135,
	0x14c7f9be2b7e9608, 0x03ed8fafb7be9b27, 0x4c9c8aa7e8581381, 0xa8dda2a5a155a1b3,
	0x31990fffdbdfdb26, 0xaf2b4fdb282c1ac0, 0x1b463d1932648cd6, 0x28d286e3140abfd6,
	0xa47bfe3f8ccf9b03, 0x67996783e97ad106, 0x987c63cf93d56de2, 0xec49f3903edb1a95,
	0xe50901a3ea121242, 0x6e3dacc90f12121b, 0xae39d9aa3a387e52, 0x6a6b59c9c9c0c490,
	0xd9fbe780540b63b0, 0x762fe5758d359604, 0xbe9ba399791c0523, 0x12e9831d31b56da5,
	0x115077a412e2ccc0, 0xa6445bd3d9267887, 0x22db2ca5a94de172, 0x45e4c6445c643f10,
	0x60eef6fd948e6c15, 0x000a1de20716d68c, 0xceff6e89efe6900a, 0xe9aeabe9add98128,
	0x3e9a5775f3bf77ec, 0x8a35863b0f278670, 0xeeeff2448cda8e87, 0xd85abb881d74f444,
	0xf9348b5ca6ebf672, 0xf55e05af65f3c0fa, 0x85a5a79347417896, 0xeaa5bf768fea1597,
	0x27ea3e9c497cff13, 0xeb28e3b1b084410f, 0xd86e01e001cc899b, 0x6a1100bcd9f6bca7,
	0x7c78397d4ca4cd0e, 0x09e671395f1fe140, 0xaa0a39c2c470e5bc, 0x034ccac85289ab25,
	0x9a53727ec18ee075, 0x16d5ec4a0e7b8cdb, 0xcaae117ec26c7625, 0xd1f78baf0db8a55e,
	0x5fc427e8c307a9d7, 0x6fa0a125cd07f753, 0x6bf5f8f79f882ba7, 0x7920276665ae497d,
	0x031392cb2c797a45, 0xf7ac468a7f2a2690, 0xda77d7f1acb7403e, 0x308442bd2f0ab265,
	0x6cd08c9212cf8e3b, 0x168fc55030674371, 0x8cf92775f763787d, 0x85e27e82a3c2e9d5,
	0xcee1a58ec8d2520e, 0x6afaf64c28707959, 0xe28dc32e38d964b3, 0xd701b4a09a5bde6f,
	0xf4e88aad1497184f, 0x805f567c3937a5b4, 0x6fd3ac3c2fa10751, 0x6cd5c2ad05370ee5,
}

/*
Package mar reads and writes Mozilla ARchive (MAR) files: the
fixed-header, trailing-index container format used to distribute
Firefox update payloads.

A MAR file is, in order, a fixed 8-byte header carrying the offset of
the trailing index block, an optional signature block, an optional
additional block (currently only carrying product information), the
member payloads themselves, and finally the index block giving each
member's name, offset, size, and file mode. Members are compressed
independently of one another so that extracting one member never
requires decompressing another; see package compress for the codec
adapter and package sign for the RSA-PKCS#1v1.5 signature engine this
package builds on.

Reading an archive is a single eager parse (Open); writing one is a
sequential two-phase process of streaming members followed by
back-patching the header, index offset, and any signatures (NewWriter,
Writer.AddMember, Writer.Finalize). Both sides share the same
hash-with-holes logic in package hashhole, so a signature computed by
this package's Writer always verifies against this package's Reader.
*/
package mar

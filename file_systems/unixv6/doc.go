/*
Package unixv6 implements a file system modeled on the one used by Unix version 6.

# Layout

Sector 0 is the boot block and sector 1 holds the superblock. The inode area
follows immediately, 16 inodes to a sector, and the data area takes up the rest
of the image. Inode 0 is never used; the root directory is always inode 1.

Files of up to 4 KiB ("small" files) list their data sectors directly in the
inode's eight address slots. Larger files use the first seven slots to point to
indirect sectors, each holding the addresses of 256 data sectors, for a maximum
file size of 896 KiB. The eighth slot is never used. Whether a file is small or
large is decided by its size alone.

Unlike the original, the free block list and free inode list aren't stored on
disk. Both are rebuilt in memory every time an image is mounted, by walking the
inode area and following the address list of every allocated inode.

# Limitations

Directories can only grow; entries are never removed. There are no "." or ".."
entries. Permissions are stored but never checked.

Reference: https://www.tuhs.org/cgi-bin/utree.pl?file=V6/usr/sys/ino.h
*/
package unixv6
